package greetings

// Message is the greeting every request receives.
const Message = "Hello from Spring Boot"

// Data is the greeting document.
type Data struct {
	Message string `json:"message" example:"Hello from Spring Boot" doc:"Greeting message"`
}
