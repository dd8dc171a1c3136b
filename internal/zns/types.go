package zns

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Message is one template message request.
type Message struct {
	Phone        string            `json:"phone"`
	TemplateID   string            `json:"template_id"`
	TemplateData map[string]string `json:"template_data"`
	TrackingID   string            `json:"tracking_id,omitempty"`
	Mode         string            `json:"mode,omitempty"`
}

// SendResponse is the body returned by the template message endpoint.
type SendResponse struct {
	Error   int       `json:"error"`
	Message string    `json:"message"`
	Data    *SendData `json:"data,omitempty"`
}

// SendData describes an accepted message.
type SendData struct {
	MsgID       string `json:"msg_id"`
	SentTime    string `json:"sent_time"`
	SendingMode string `json:"sending_mode,omitempty"`
	Quota       *Quota `json:"quota,omitempty"`
}

// Quota is the OA's remaining daily quota after the send.
type Quota struct {
	DailyQuota     flexInt `json:"dailyQuota"`
	RemainingQuota flexInt `json:"remainingQuota"`
}

// tokenResponse is the OA access token endpoint body. Errors come back with
// HTTP 200 and a non-zero error field.
type tokenResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresIn    flexInt `json:"expires_in"`

	Error            int    `json:"error"`
	ErrorName        string `json:"error_name"`
	ErrorReason      string `json:"error_reason"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

// flexInt accepts both 90000 and "90000"; Zalo uses either depending on
// the endpoint.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

func (f flexInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(f))
}
