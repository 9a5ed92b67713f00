package runtime

import (
	"context"

	"github.com/core-tools/hsu-control/pkg/domain"
)

// StartLevelCapability is the capability name under which the system unit
// publishes start level management.
const StartLevelCapability = "startlevel"

// StartLevelManager is the start level management capability
type StartLevelManager interface {
	GetStartLevel() int
	GetUnitStartLevel(handle int64) (int, error)
	SetUnitStartLevel(ctx context.Context, handle int64, level int) error
}

type startLevelService struct {
	framework *Framework
}

func (s *startLevelService) GetStartLevel() int {
	return s.framework.StartLevel()
}

func (s *startLevelService) GetUnitStartLevel(handle int64) (int, error) {
	return s.framework.UnitStartLevel(domain.UnitHandle(handle))
}

func (s *startLevelService) SetUnitStartLevel(ctx context.Context, handle int64, level int) error {
	return s.framework.SetUnitStartLevel(ctx, domain.UnitHandle(handle), level)
}
