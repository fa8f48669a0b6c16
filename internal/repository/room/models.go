package room

// Member is the stored form of a room member. The id is the key.
type Member struct {
	Username string `redis:"username"`
	Color    string `redis:"color"`
	IsHost   bool   `redis:"is_host"`
	IsOnline bool   `redis:"is_online"`
	JoinedAt int64  `redis:"joined_at"`
}
