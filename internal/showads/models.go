package showads

// Field names follow the ShowAds wire format exactly.

// AuthRequest is the body of POST /auth.
type AuthRequest struct {
	ProjectKey string `json:"ProjectKey"`
}

// AuthResponse is the 200 body of POST /auth.
type AuthResponse struct {
	AccessToken string `json:"AccessToken"`
}

// BulkItem is one visitor/banner pair of a bulk request.
type BulkItem struct {
	VisitorCookie string `json:"VisitorCookie"`
	BannerID      int64  `json:"BannerId"`
}

// BulkRequest is the body of POST /banners/show/bulk.
type BulkRequest struct {
	Data []BulkItem `json:"Data"`
}
