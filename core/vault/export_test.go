package vault

import "time"

// FreezeNow pins the vault clock to t until the returned func is called.
func FreezeNow(t time.Time) (restore func()) {
	nowFunc = func() time.Time { return t }
	return func() { nowFunc = time.Now }
}
