package captchax

import (
	"runtime"
	"strconv"
	"strings"
)

// DefaultLockName is the lock shared by every gate that doesn't name one.
const DefaultLockName = "session"

const (
	sharedLockPrefix      = "captcha:lock:"
	independentLockPrefix = "captcha:site:"
)

// LockKey returns the session key a pass is recorded under.
//
// Shared locks are keyed by name, so gates using the same name accept each
// other's passes. Independent locks are keyed by site, the identity of the
// protected operation, and ignore the name. The two kinds never collide.
func LockKey(name string, independent bool, site string) string {
	if independent {
		return independentLockPrefix + site
	}
	if name == "" {
		name = DefaultLockName
	}
	return sharedLockPrefix + name
}

// callerSite names the call site skip frames above its caller by function
// and line, e.g. "main.main.func1:42".
func callerSite(skip int) string {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	if fn := runtime.FuncForPC(pc); fn != nil {
		return fn.Name() + ":" + strconv.Itoa(line)
	}
	return file[strings.LastIndex(file, "/")+1:] + ":" + strconv.Itoa(line)
}
