package session

type CreateParams struct {
	SessionId string
	MediaRef  string
}

type ApplyStateChangeParams struct {
	SessionId string
	Playing   bool
	Position  *float64
}

type SwitchMediaParams struct {
	SessionId string
	MediaRef  string
}
