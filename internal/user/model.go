package user

// Identity is the external game account a chat user is bound to. It is
// embedded by value in every message and in the session token.
type Identity struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// Session is a signed token together with the identity it encodes.
type Session struct {
	Token string   `json:"token"`
	User  Identity `json:"user"`
}

type profileResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

type headshotResponse struct {
	Data []struct {
		TargetID int64  `json:"targetId"`
		ImageURL string `json:"imageUrl"`
	} `json:"data"`
}

// imageFor returns the headshot for targetID, ignoring entries for other
// users and entries without an image.
func (h headshotResponse) imageFor(targetID int64) string {
	for _, d := range h.Data {
		if d.TargetID == targetID && d.ImageURL != "" {
			return d.ImageURL
		}
	}
	return ""
}
