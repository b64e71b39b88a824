package mysql

// is_favorite is only written on first insert; reseeding keeps user toggles.
const upsertListingSQL = `
INSERT INTO restaurants
  (id, name, neighborhood, cuisine_type, address, photograph, lat, lng, operating_hours, is_favorite, created_at, updated_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP(3)), COALESCE(?, CURRENT_TIMESTAMP(3)))
ON DUPLICATE KEY UPDATE
  name            = VALUES(name),
  neighborhood    = VALUES(neighborhood),
  cuisine_type    = VALUES(cuisine_type),
  address         = VALUES(address),
  photograph      = VALUES(photograph),
  lat             = VALUES(lat),
  lng             = VALUES(lng),
  operating_hours = VALUES(operating_hours),
  updated_at      = CURRENT_TIMESTAMP(3)
`

const selectListingsSQL = `
SELECT id, name, neighborhood, cuisine_type, address, photograph, lat, lng,
       operating_hours, is_favorite, created_at, updated_at
FROM restaurants
`

const setFavoriteSQL = `
UPDATE restaurants SET is_favorite = ?, updated_at = CURRENT_TIMESTAMP(3) WHERE id = ?
`

// LAST_INSERT_ID(id) on a duplicate client_key hands back the existing row,
// which makes replays idempotent.
const insertReviewSQL = `
INSERT INTO reviews
  (restaurant_id, name, rating, comments, client_key, created_at, updated_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)
`

const selectReviewsSQL = `
SELECT id, restaurant_id, name, rating, comments, client_key, created_at, updated_at
FROM reviews
`
