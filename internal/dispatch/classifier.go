package dispatch

import "fmt"

// Class is the retry classification of one send attempt.
type Class int

const (
	ClassSuccess Class = iota
	ClassTransientRateLimit
	ClassTransientOther
	ClassPermanent
)

var classNames = map[Class]string{
	ClassSuccess:            "success",
	ClassTransientRateLimit: "transient_rate_limit",
	ClassTransientOther:     "transient_other",
	ClassPermanent:          "permanent",
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Transient reports whether an attempt with this class may be retried.
func (c Class) Transient() bool {
	return c == ClassTransientRateLimit || c == ClassTransientOther
}

// MarshalText encodes the class by name.
func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a class name.
func (c *Class) UnmarshalText(text []byte) error {
	for class, name := range classNames {
		if name == string(text) {
			*c = class
			return nil
		}
	}
	return fmt.Errorf("dispatch: unknown classification %q", string(text))
}

// Classifier maps the outcome of one send call to a Class. Implementations
// must be pure: the same input always yields the same Class.
type Classifier interface {
	Classify(resp *Response, err error) Class
}

// CodeClassifier classifies by HTTP status and provider error code. The code
// tables are supplied by the provider adapter.
type CodeClassifier struct {
	rateLimitCodes map[int]struct{}
	transientCodes map[int]struct{}
}

// NewCodeClassifier builds a classifier. rateLimitCodes are provider codes
// meaning "quota or rate limit hit"; transientCodes are other provider codes
// worth retrying. Everything else non-zero is permanent.
func NewCodeClassifier(rateLimitCodes, transientCodes []int) *CodeClassifier {
	c := &CodeClassifier{
		rateLimitCodes: make(map[int]struct{}, len(rateLimitCodes)),
		transientCodes: make(map[int]struct{}, len(transientCodes)),
	}
	for _, code := range rateLimitCodes {
		c.rateLimitCodes[code] = struct{}{}
	}
	for _, code := range transientCodes {
		c.transientCodes[code] = struct{}{}
	}
	return c
}

// Classify implements Classifier.
//
//   - transport error (including timeouts and recovered panics): transient_other
//   - HTTP 429 or a rate-limit code: transient_rate_limit
//   - a transient code: transient_other
//   - 2xx with error code 0: success
//   - anything else: permanent
func (c *CodeClassifier) Classify(resp *Response, err error) Class {
	if err != nil || resp == nil {
		return ClassTransientOther
	}
	if resp.HTTPStatus == 429 {
		return ClassTransientRateLimit
	}
	if _, ok := c.rateLimitCodes[resp.ErrorCode]; ok && resp.ErrorCode != 0 {
		return ClassTransientRateLimit
	}
	if _, ok := c.transientCodes[resp.ErrorCode]; ok && resp.ErrorCode != 0 {
		return ClassTransientOther
	}
	if isSuccessStatus(resp.HTTPStatus) && resp.ErrorCode == 0 {
		return ClassSuccess
	}
	return ClassPermanent
}

func isSuccessStatus(status int) bool {
	return status == 0 || (status >= 200 && status < 300)
}
