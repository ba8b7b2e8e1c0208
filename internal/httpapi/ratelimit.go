package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL  = 10 * time.Minute
	limiterMaxPeers = 4096
)

// ipLimiter is a per-client token bucket. Scanners at the school gate share
// few IPs, so the burst equals one second's worth of scans.
type ipLimiter struct {
	perSec int

	mu    sync.Mutex
	peers map[string]*peer
}

type peer struct {
	lim  *rate.Limiter
	seen time.Time
}

func newIPLimiter(perSec int) *ipLimiter {
	return &ipLimiter{perSec: perSec, peers: make(map[string]*peer)}
}

func (l *ipLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !l.allow(ip, time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}

func (l *ipLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.peers[ip]
	if !ok {
		if len(l.peers) >= limiterMaxPeers {
			l.pruneLocked(now)
		}
		p = &peer{lim: rate.NewLimiter(rate.Limit(l.perSec), l.perSec)}
		l.peers[ip] = p
	}
	p.seen = now
	return p.lim.AllowN(now, 1)
}

func (l *ipLimiter) pruneLocked(now time.Time) {
	for ip, p := range l.peers {
		if now.Sub(p.seen) > limiterIdleTTL {
			delete(l.peers, ip)
		}
	}
}
