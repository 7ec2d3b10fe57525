package meta

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// Error tags persisted on posts so operators can triage without log access.
const (
	TagRateLimit         = "meta_rate_limit"
	TagFatalAfterLimit   = "meta_fatal_after_limit"
	TagImageURLInvalid   = "image_url_invalid"
	TagMediaUploadFailed = "meta_media_upload_failed"
	TagContainerIDZero   = "meta_container_id_zero"
	TagObjectNotFound    = "ig_object_not_found"
	TagAuth              = "meta_auth"
	TagCopyright         = "meta_copyright"
	TagSessionExpired    = "meta_session_expired"
	TagUnknown           = "publish_unknown"
)

// retryableTags may be retried automatically; the rest need operator action
// (new token, fixed image hosting, new content) or a manual retry.
var retryableTags = map[string]bool{
	TagRateLimit:         true,
	TagFatalAfterLimit:   true,
	TagMediaUploadFailed: true,
	TagContainerIDZero:   true,
	TagObjectNotFound:    true,
	TagSessionExpired:    true,
}

// Classifier maps Graph API failures onto the error taxonomy. The transient
// code/subcode sets are remote-API lore, not gospel, so they stay
// configurable.
type Classifier struct {
	transientCodes    map[int]bool
	transientSubcodes map[int]bool
}

func NewClassifier(transientCodesCSV, transientSubcodesCSV string) *Classifier {
	return &Classifier{
		transientCodes:    parseCodeSet(transientCodesCSV),
		transientSubcodes: parseCodeSet(transientSubcodesCSV),
	}
}

func parseCodeSet(csv string) map[int]bool {
	out := make(map[int]bool)
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if code, err := strconv.Atoi(part); err == nil {
			out[code] = true
		}
	}
	return out
}

// Transient reports whether a failed call may be retried in-place.
func (c *Classifier) Transient(ge *GraphError) bool {
	if ge == nil {
		return false
	}
	if ge.StatusCode >= 500 || ge.Transient {
		return true
	}
	return c.transientCodes[ge.Code] || c.transientSubcodes[ge.Subcode]
}

// RateLimited reports whether the failure is a throttle signal, which
// deserves a much slower retry pace.
func (c *Classifier) RateLimited(ge *GraphError) bool {
	if ge == nil {
		return false
	}
	switch ge.Code {
	case 4, 17, 32, 613:
		return true
	}
	switch ge.Subcode {
	case 2207051, 2207085:
		return true
	}
	return false
}

var (
	codeRe    = regexp.MustCompile(`code=(-?\d+)`)
	subcodeRe = regexp.MustCompile(`subcode=(\d+)`)
)

// Classification is the persisted triage view of a publish failure.
type Classification struct {
	Tag     string
	Code    string
	Summary string
}

// Retryable reports whether the tagged failure can be re-attempted without
// operator intervention.
func (cl Classification) Retryable() bool {
	return retryableTags[cl.Tag]
}

// Classify maps an error (ideally a *GraphError, but any error text works)
// onto the taxonomy.
func (c *Classifier) Classify(err error) Classification {
	if err == nil {
		return Classification{Tag: TagUnknown}
	}

	text := err.Error()
	low := strings.ToLower(text)

	var ge *GraphError
	errors.As(err, &ge)

	code, subcode := 0, 0
	if ge != nil {
		code, subcode = ge.Code, ge.Subcode
	} else {
		if m := codeRe.FindStringSubmatch(text); m != nil {
			code, _ = strconv.Atoi(m[1])
		}
		if m := subcodeRe.FindStringSubmatch(text); m != nil {
			subcode, _ = strconv.Atoi(m[1])
		}
	}

	codeField := ""
	switch {
	case code != 0 && subcode != 0:
		codeField = strconv.Itoa(code) + ":" + strconv.Itoa(subcode)
	case code != 0:
		codeField = strconv.Itoa(code)
	case subcode != 0:
		codeField = strconv.Itoa(subcode)
	}

	tag, summary := c.classifyText(low, code, subcode)
	if summary == "" {
		summary = text
		if len(summary) > 220 {
			summary = summary[:220]
		}
	}
	return Classification{Tag: tag, Code: codeField, Summary: summary}
}

func (c *Classifier) classifyText(low string, code, subcode int) (string, string) {
	switch {
	case strings.Contains(low, "application request limit reached") || subcode == 2207051 || code == 4 || code == 17 || code == 32 || code == 613:
		return TagRateLimit, "Meta throttled the account. Wait a few minutes and retry."
	case subcode == 2207085 && strings.Contains(low, "fatal"):
		return TagFatalAfterLimit, "Meta returned a fatal error right after a rate limit. Retry later with a longer backoff."
	case strings.Contains(low, "image url is not valid"):
		return TagImageURLInvalid, "Meta cannot fetch the public slide images. Check the image hosting configuration."
	case strings.Contains(low, "media upload failed") || subcode == 2207026:
		return TagMediaUploadFailed, "Meta failed to process the uploaded media. Usually transient."
	case strings.Contains(low, "invalid id=0") || strings.Contains(low, "returned invalid id"):
		return TagContainerIDZero, "Meta returned a zero/invalid container id. Usually transient."
	case code == 100 && subcode == 33, strings.Contains(low, "does not exist") && strings.Contains(low, "missing permissions"):
		return TagObjectNotFound, "Referenced Instagram object no longer exists. A full re-publish is needed."
	case code == 190 || strings.Contains(low, "unauthorized") || strings.Contains(low, "access token"):
		return TagAuth, "Meta token or permissions invalid or expired."
	case code == 368 || strings.Contains(low, "copyright"):
		return TagCopyright, "Content rejected by Meta policy. This content cannot be retried."
	case strings.Contains(low, "session has expired") || strings.Contains(low, "session expired"):
		return TagSessionExpired, "Upload session expired. Retry the publish."
	}
	return TagUnknown, ""
}

// Ambiguous reports whether a publish failure may hide a remote success:
// the call failed locally, but Instagram may already have the post. These
// failures must go through reconciliation before being recorded as errors.
func (c *Classifier) Ambiguous(err error) bool {
	if err == nil {
		return false
	}
	low := strings.ToLower(err.Error())
	if strings.Contains(low, "application request limit reached") ||
		strings.Contains(low, "code=4") ||
		strings.Contains(low, "subcode=2207051") ||
		strings.Contains(low, "subcode=2207085") ||
		(strings.Contains(low, "fatal") && strings.Contains(low, "media_publish")) ||
		strings.Contains(low, "timeout") ||
		strings.Contains(low, "connection reset") ||
		strings.Contains(low, "network failure") {
		return true
	}
	var ge *GraphError
	if errors.As(err, &ge) {
		return ge.StatusCode >= 500 || c.RateLimited(ge)
	}
	return false
}
