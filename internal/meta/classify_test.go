package meta

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testClassifier() *Classifier {
	return NewClassifier("1,2,4,17,32,613", "2207051,2207085")
}

func TestClassifyRateLimit(t *testing.T) {
	c := testClassifier()

	cl := c.Classify(&GraphError{
		Path:       "/media_publish",
		StatusCode: 400,
		Code:       4,
		Message:    "Application request limit reached",
	})
	assert.Equal(t, TagRateLimit, cl.Tag)
	assert.Equal(t, "4", cl.Code)
	assert.True(t, cl.Retryable())
}

func TestClassifyFatalAfterLimit(t *testing.T) {
	c := testClassifier()

	cl := c.Classify(&GraphError{
		StatusCode: 500,
		Code:       -1,
		Subcode:    2207085,
		Message:    "The creation of this fatal media failed",
	})
	assert.Equal(t, TagFatalAfterLimit, cl.Tag)
	assert.Equal(t, "-1:2207085", cl.Code)
	assert.True(t, cl.Retryable())
}

func TestClassifyImageURL(t *testing.T) {
	c := testClassifier()

	cl := c.Classify(&GraphError{
		StatusCode: 400,
		Code:       9004,
		Message:    "The image URL is not valid or accessible",
	})
	assert.Equal(t, TagImageURLInvalid, cl.Tag)
	assert.False(t, cl.Retryable())
}

func TestClassifyObjectNotFound(t *testing.T) {
	c := testClassifier()

	cl := c.Classify(&GraphError{
		StatusCode: 400,
		Code:       100,
		Subcode:    33,
		Message:    "Unsupported get request. Object with ID does not exist",
	})
	assert.Equal(t, TagObjectNotFound, cl.Tag)
}

func TestClassifyAuthAndCopyright(t *testing.T) {
	c := testClassifier()

	assert.Equal(t, TagAuth, c.Classify(&GraphError{StatusCode: 401, Code: 190, Message: "Error validating access token"}).Tag)
	assert.Equal(t, TagCopyright, c.Classify(&GraphError{StatusCode: 400, Code: 368, Message: "temporarily blocked for policies violations"}).Tag)
}

func TestClassifyContainerIDZero(t *testing.T) {
	c := testClassifier()

	cl := c.Classify(errors.New(`graph /media_publish: returned invalid id="0"`))
	assert.Equal(t, TagContainerIDZero, cl.Tag)
	assert.True(t, cl.Retryable())
}

func TestClassifyUnknownKeepsMessage(t *testing.T) {
	c := testClassifier()

	cl := c.Classify(errors.New("something odd happened"))
	assert.Equal(t, TagUnknown, cl.Tag)
	assert.Equal(t, "something odd happened", cl.Summary)
	assert.False(t, cl.Retryable())
}

func TestClassifyParsesCodesFromPlainText(t *testing.T) {
	c := testClassifier()

	cl := c.Classify(errors.New("meta /media failed: HTTP 400 | boom | code=190"))
	assert.Equal(t, TagAuth, cl.Tag)
	assert.Equal(t, "190", cl.Code)
}

func TestAmbiguous(t *testing.T) {
	c := testClassifier()

	assert.True(t, c.Ambiguous(errors.New("Application request limit reached")))
	assert.True(t, c.Ambiguous(errors.New("context deadline exceeded (Client.Timeout exceeded)")))
	assert.True(t, c.Ambiguous(&GraphError{StatusCode: 502, Message: "bad gateway"}))
	assert.True(t, c.Ambiguous(&GraphError{StatusCode: 400, Code: 4, Message: "throttled"}))

	assert.False(t, c.Ambiguous(&GraphError{StatusCode: 400, Code: 190, Message: "bad token"}))
	assert.False(t, c.Ambiguous(nil))
}

func TestTransientRespectsConfiguredSets(t *testing.T) {
	c := NewClassifier("99", "")

	assert.True(t, c.Transient(&GraphError{StatusCode: 400, Code: 99}))
	assert.False(t, c.Transient(&GraphError{StatusCode: 400, Code: 4}))
	assert.True(t, c.Transient(&GraphError{StatusCode: 503}))
	assert.True(t, c.Transient(&GraphError{StatusCode: 400, Transient: true}))
}

func TestNormalizeCaption(t *testing.T) {
	assert.Equal(t, "hello world", NormalizeCaption("  Hello\n\n  WORLD "))
	assert.Equal(t, "", NormalizeCaption("   "))
}
