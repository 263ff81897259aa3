package domain

// UserProfile display data of a user (users table, owned by the account service)
type UserProfile struct {
	ID          string `gorm:"column:id;primaryKey;size:64" json:"id"`
	Username    string `gorm:"column:username;size:50" json:"username"`
	DisplayName string `gorm:"column:display_name;size:100" json:"displayName"`
	AvatarURL   string `gorm:"column:avatar_url;size:500" json:"avatarUrl,omitempty"`
}

func (UserProfile) TableName() string {
	return "users"
}

// UnknownProfile placeholder for users missing from the directory
func UnknownProfile(id string) *UserProfile {
	return &UserProfile{ID: id}
}
