package model

// ActionState is the uniform envelope every entity action answers with. A
// failed action carries a localized message and the zero Data value.
type ActionState[T any] struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
}

// Succeeded builds a successful ActionState.
func Succeeded[T any](message string, data T) ActionState[T] {
	return ActionState[T]{Message: message, Success: true, Data: data}
}

// Failed builds a failed ActionState.
func Failed[T any](message string) ActionState[T] {
	return ActionState[T]{Message: message}
}
