package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"
)

// StringData writes one SSE frame carrying the given payload string.
func StringData(c *gin.Context, str string) error {
	str = strings.TrimPrefix(str, "data: ")
	str = strings.TrimSuffix(str, "\r")
	_, err := fmt.Fprintf(c.Writer, "data: %s\n\n", str)
	if err != nil {
		return errors.Wrap(err, "write sse data")
	}
	c.Writer.Flush()
	return nil
}

// ObjectData marshals the object and writes it as one SSE frame.
func ObjectData(c *gin.Context, object any) error {
	jsonData, err := json.Marshal(object)
	if err != nil {
		return errors.Wrapf(err, "marshal sse object %v", object)
	}
	return StringData(c, string(jsonData))
}

// Done writes the terminal [DONE] frame.
func Done(c *gin.Context) {
	_ = StringData(c, "[DONE]")
}
