package chat

// Page is a slice of a larger ordered result, in the shape of the paginated
// envelope returned by GET /channels/{id}/messages.
type Page[T any] struct {
	Content       []T   `json:"content"`
	Number        int   `json:"number"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
	Last          bool  `json:"last"`
}
