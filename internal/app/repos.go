package app

import (
	"gorm.io/gorm"

	"github.com/veloria-ai/fmcore/internal/logger"
	"github.com/veloria-ai/fmcore/internal/repos"
)

type Repos struct {
	Namespace          repos.NamespaceRepo
	MergeOperation     repos.MergeOperationRepo
	EventLog           repos.EventLogRepo
	AdapterReset       repos.AdapterResetRepo
	ResourceAllocation repos.ResourceAllocationRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Namespace:          repos.NewNamespaceRepo(db, log),
		MergeOperation:     repos.NewMergeOperationRepo(db, log),
		EventLog:           repos.NewEventLogRepo(db, log),
		AdapterReset:       repos.NewAdapterResetRepo(db, log),
		ResourceAllocation: repos.NewResourceAllocationRepo(db, log),
	}
}
