package respond

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"
)

// Output is the body of a successful job run.
type Output struct {
	Output interface{} `json:"output"`
}

// Error is the body of a failed request.
type Error struct {
	Error string `json:"error"`
}

// JSON sends a JSON response with the specified HTTP status code and data.
func JSON(c *ginext.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// OK sends a 200 OK response wrapping result in an Output.
func OK(c *ginext.Context, result interface{}) {
	JSON(c, http.StatusOK, Output{Output: result})
}

// Fail sends an error response with the specified HTTP status code.
func Fail(c *ginext.Context, status int, err error) {
	JSON(c, status, Error{Error: err.Error()})
}
