package session

type CreateSessionParams struct {
	SessionId string
	MediaRef  string
}

type CreateSessionResponse struct {
	SessionId string
}

type JoinSessionParams struct {
	ConnId    string
	RequestId string
	SessionId string
}

type LeaveSessionParams struct {
	ConnId    string
	SessionId string
}

type SwitchMediaParams struct {
	ConnId   string
	MediaRef string
}

type InitPlaybackSyncParams struct {
	ConnId    string
	RequestId string
}

type ChangePlayerStateParams struct {
	ConnId   string
	Playing  bool
	Position *float64
}

type DescribeResponse struct {
	SessionId string  `json:"session_id"`
	MediaRef  string  `json:"media_ref"`
	Playing   bool    `json:"playing"`
	Position  float64 `json:"position"`
	Started   bool    `json:"started"`
	Members   int     `json:"members"`
}
