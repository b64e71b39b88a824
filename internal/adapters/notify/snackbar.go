// Package notify renders UI notices as terminal snackbars using lipgloss.
package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"reviews_app/internal/domain"
)

var (
	baseStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
	styles = map[string]lipgloss.Style{
		"defer-offline":  baseStyle.BorderForeground(lipgloss.Color("214")),
		"fav-restaurant": baseStyle.BorderForeground(lipgloss.Color("212")),
		"swRegistered":   baseStyle.BorderForeground(lipgloss.Color("42")),
		"update":         baseStyle.BorderForeground(lipgloss.Color("45")),
	}
	hintStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Snackbar writes each notice as a bordered box. Duration is shown as a
// hint since a terminal line cannot dismiss itself.
type Snackbar struct {
	mu sync.Mutex
	w  io.Writer
}

var _ domain.Notifier = (*Snackbar)(nil)

func NewSnackbar(w io.Writer) *Snackbar { return &Snackbar{w: w} }

func (s *Snackbar) Show(n domain.Notice) {
	st, ok := styles[n.Name]
	if !ok {
		st = baseStyle
	}
	text := n.Message
	if n.Duration > 0 {
		text += "\n" + hintStyle.Render(fmt.Sprintf("(%s)", n.Duration))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, st.Render(text))
}
