package dashboard

import (
	"sync"
	"time"

	"github.com/dmehra2102/lumina-commerce/internal/livecache"
	"github.com/dmehra2102/lumina-commerce/internal/sales/domain"
)

type SalesFeed interface {
	SalesView() livecache.View[domain.Sale]
	OnSales(fn func(livecache.View[domain.Sale])) func()
}

// Engine keeps a summary of the latest sales view it has seen.
type Engine struct {
	loc    *time.Location
	detach func()

	mu      sync.RWMutex
	seq     uint64
	summary Summary
}

func NewEngine(feed SalesFeed, loc *time.Location) *Engine {
	e := &Engine{loc: loc}
	e.detach = feed.OnSales(e.apply)
	e.apply(feed.SalesView())
	return e
}

func (e *Engine) apply(v livecache.View[domain.Sale]) {
	s := Summarize(v.Items, e.loc)

	e.mu.Lock()
	defer e.mu.Unlock()
	if v.Seq < e.seq {
		return
	}
	e.seq, e.summary = v.Seq, s
}

func (e *Engine) Summary() Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.summary
}

// Detach stops following the sales feed.
func (e *Engine) Detach() { e.detach() }
