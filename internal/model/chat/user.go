package chat

// User is the public part of an account.
type User struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
}

// Profile is returned by GET /users/@me and carries the channel membership
// list the client directory is populated from.
type Profile struct {
	User
	Channels []Channel `json:"channels"`
}
