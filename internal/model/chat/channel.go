package chat

// Channel is a named conversation scope the user belongs to.
type Channel struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// ChannelWithMembers is the channel detail view including its members.
type ChannelWithMembers struct {
	Channel
	Members []User `json:"members"`
}
