package core

type (
	Logger interface {
		Debug(msg string, args ...interface{})
		Info(msg string, args ...interface{})
		Warn(msg string, args ...interface{})
		Error(msg string, args ...interface{})
		Fatal(msg string, args ...interface{})
	}

	// Person identifies the caller an error report is attached to.
	Person struct {
		ID       string
		Username string
		Email    string
	}
)
