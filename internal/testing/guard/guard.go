package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("APPROVIA_TEST_MODE") == "" {
			_ = os.Setenv("APPROVIA_TEST_MODE", "1")
		}
	})
}
