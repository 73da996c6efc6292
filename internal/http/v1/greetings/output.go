package greetings

// GetOutput is the response for GET /greetings.
type GetOutput struct {
	Body Data
}
