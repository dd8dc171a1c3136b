package zns

import (
	"fmt"

	"github.com/ignite/zns-dispatch/internal/dispatch"
)

// Zalo OA / ZNS application error codes seen in send responses.
const (
	CodeSuccess              = 0
	CodeRateLimited          = -32
	CodeUnknown              = -100
	CodeInvalidApp           = -101
	CodeInvalidSecret        = -104
	CodeInvalidPhone         = -108
	CodeInvalidTemplate      = -109
	CodeEmptyTemplateData    = -111
	CodeInvalidParams        = -112
	CodeUserInactive         = -114
	CodeOutOfQuota           = -115
	CodeTemplateNotAllowed   = -117
	CodeAccountNotExist      = -118
	CodeCannotReceive        = -119
	CodeInvalidAccessToken   = -124
	CodeOutsideSendingWindow = -133
	CodeUserRejected         = -139
	CodeDailyQuotaExceeded   = -144
)

var codeMessages = map[int]string{
	CodeSuccess:              "Success",
	CodeRateLimited:          "Request exceeds the allowed rate",
	CodeUnknown:              "Unknown error",
	CodeInvalidApp:           "Application is invalid",
	CodeInvalidSecret:        "Secret key is invalid",
	CodeInvalidPhone:         "Phone number is invalid",
	CodeInvalidTemplate:      "Template ID is invalid",
	CodeEmptyTemplateData:    "Template data is empty",
	CodeInvalidParams:        "Template parameters are invalid",
	CodeUserInactive:         "User is inactive or has blocked ZNS",
	CodeOutOfQuota:           "OA has insufficient quota",
	CodeTemplateNotAllowed:   "OA or app is not allowed to use this template",
	CodeAccountNotExist:      "Zalo account does not exist or is disabled",
	CodeCannotReceive:        "Account cannot receive ZNS messages",
	CodeInvalidAccessToken:   "Access token is invalid",
	CodeOutsideSendingWindow: "Message sent outside the allowed time window",
	CodeUserRejected:         "User rejected messages from this OA",
	CodeDailyQuotaExceeded:   "OA exceeded its daily message quota",
}

// RateLimitCodes are provider codes that mean "slow down".
var RateLimitCodes = []int{CodeRateLimited}

// TransientCodes are provider codes worth retrying after a short pause.
var TransientCodes = []int{CodeUnknown}

// Describe returns a human readable message for a provider code.
func Describe(code int) string {
	if msg, ok := codeMessages[code]; ok {
		return msg
	}
	return fmt.Sprintf("provider error %d", code)
}

// NewClassifier returns a classifier that knows the Zalo rate-limit and
// transient codes plus any extras from configuration.
func NewClassifier(extraRateLimit, extraTransient []int) *dispatch.CodeClassifier {
	rl := append(append([]int(nil), RateLimitCodes...), extraRateLimit...)
	tr := append(append([]int(nil), TransientCodes...), extraTransient...)
	return dispatch.NewCodeClassifier(rl, tr)
}
