package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimit_PerIP(t *testing.T) {
	tests := []struct {
		name   string
		rps    float64
		burst  int
		ips    []string
		expect []int
	}{
		{
			name:   "within burst",
			rps:    10,
			burst:  10,
			ips:    []string{"192.168.1.1", "192.168.1.1"},
			expect: []int{http.StatusOK, http.StatusOK},
		},
		{
			name:   "burst exhausted",
			rps:    1,
			burst:  2,
			ips:    []string{"10.0.0.1", "10.0.0.1", "10.0.0.1"},
			expect: []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests},
		},
		{
			name:   "separate buckets",
			rps:    1,
			burst:  1,
			ips:    []string{"10.0.0.1", "10.0.0.2", "10.0.0.1"},
			expect: []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := NewRateLimiter(tt.rps, tt.burst)
			defer rl.Stop()

			router := gin.New()
			router.POST("/api/auth/login", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

			for i, ip := range tt.ips {
				w := httptest.NewRecorder()
				req, _ := http.NewRequest("POST", "/api/auth/login", nil)
				req.RemoteAddr = ip + ":12345"
				router.ServeHTTP(w, req)
				if w.Code != tt.expect[i] {
					t.Errorf("request %d from %s: status %d, expected %d", i, ip, w.Code, tt.expect[i])
				}
			}
		})
	}
}

func TestRateLimit_KeysByUser(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Stop()

	router := gin.New()
	router.Use(func(c *gin.Context) {
		if uid := c.GetHeader("X-Test-User"); uid == "7" {
			c.Set(ContextUserID, uint(7))
		} else {
			c.Set(ContextUserID, uint(8))
		}
		c.Next()
	}, rl.Middleware())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	send := func(user string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "10.0.0.9:12345"
		req.Header.Set("X-Test-User", user)
		router.ServeHTTP(w, req)
		return w
	}

	if w := send("7"); w.Code != http.StatusOK {
		t.Fatalf("user 7 first request: expected %d, got %d", http.StatusOK, w.Code)
	}
	w := send("7")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("user 7 second request: expected %d, got %d", http.StatusTooManyRequests, w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}
	if w := send("8"); w.Code != http.StatusOK {
		t.Errorf("user 8 shares the IP but not the bucket: expected %d, got %d", http.StatusOK, w.Code)
	}
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Stop()

	rl.getLimiter("ip:1")
	rl.getLimiter("ip:2")
	rl.limiters["ip:1"].lastSeen = time.Now().Add(-time.Hour)

	if n := rl.evictIdle(time.Now()); n != 1 {
		t.Errorf("evicted %d limiters, expected 1", n)
	}
	if _, ok := rl.limiters["ip:2"]; !ok {
		t.Error("recent limiter should be kept")
	}
}
