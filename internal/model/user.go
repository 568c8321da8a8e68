package model

type (
	User struct {
		ID           int64  `bson:"_id" json:"id"`
		Name         string `bson:"name" json:"name"`
		PasswordHash []byte `bson:"pass_hash" json:"-"`
		LastSeen     int64  `bson:"last_seen" json:"last_seen"`
	}

	Token struct {
		Token   string `bson:"token" json:"token"`
		UserID  int64  `bson:"user_id" json:"id"`
		Created int64  `bson:"created" json:"-"`
	}
)
