package attendance

import "time"

// SetNow replaces the service clock until the returned func is called.
func SetNow(now func() time.Time) (restore func()) {
	prev := nowFunc
	nowFunc = now
	return func() { nowFunc = prev }
}

// FreezeNow pins the service clock to t until the returned func is called.
func FreezeNow(t time.Time) (restore func()) {
	return SetNow(func() time.Time { return t })
}
