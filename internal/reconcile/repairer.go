package reconcile

import (
	"context"
	"log"
	"time"

	"sn-go/internal/config"
	"sn-go/internal/services"
	"sn-go/internal/storage"
)

// Repairer periodically scans unresolved mirror-repair records and re-runs
// the engine's pair repair until the mirror invariant holds again. Records
// that repair cleanly are marked resolved; the rest get their attempt count
// bumped and stay in the queue for the next scan.
type Repairer struct {
	engine  services.RelationshipService
	repairs storage.RepairRepository
	cfg     config.ReconcilerConfig
}

// NewRepairer creates a new Repairer instance.
func NewRepairer(engine services.RelationshipService, repairs storage.RepairRepository, cfg config.ReconcilerConfig) *Repairer {
	return &Repairer{engine: engine, repairs: repairs, cfg: cfg}
}

// Run blocks, scanning on the configured interval until ctx is cancelled.
func (r *Repairer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.ScanInterval)
	defer ticker.Stop()

	// 启动时先扫一轮，不等首个 tick
	r.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.scan(ctx)
		}
	}
}

// scan processes one batch of unresolved records.
func (r *Repairer) scan(ctx context.Context) {
	records, err := r.repairs.ListUnresolved(ctx, r.cfg.BatchSize)
	if err != nil {
		log.Printf("列出待修复记录失败: %v", err)
		return
	}
	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		ok, err := r.engine.CheckMirror(ctx, rec.ActorID, rec.TargetID)
		if err != nil {
			log.Printf("检查镜像失败 repair=%d pair=(%d,%d): %v", rec.ID, rec.ActorID, rec.TargetID, err)
			continue
		}
		if !ok {
			if err := r.engine.RepairPair(ctx, rec.ActorID, rec.TargetID); err != nil {
				log.Printf("修复失败 repair=%d pair=(%d,%d): %v", rec.ID, rec.ActorID, rec.TargetID, err)
				if err := r.repairs.IncrementAttempts(ctx, rec.ID); err != nil {
					log.Printf("更新修复次数失败 repair=%d: %v", rec.ID, err)
				}
				continue
			}
		}
		if err := r.repairs.MarkResolved(ctx, rec.ID); err != nil {
			log.Printf("标记修复完成失败 repair=%d: %v", rec.ID, err)
		}
	}
}
