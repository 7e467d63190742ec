package cli

import (
	"github.com/openwrt-builder/builder/internal/buildregistry"
	"github.com/openwrt-builder/builder/internal/collabregistry"
	"github.com/openwrt-builder/builder/internal/config"
	"github.com/openwrt-builder/builder/internal/filesindex"
	"github.com/openwrt-builder/builder/internal/imagebuilder"
	"github.com/openwrt-builder/builder/internal/profileresolver"
	"github.com/openwrt-builder/builder/internal/queue"
	"github.com/openwrt-builder/builder/pkg/logger"
)

// deps bundles every collaborator the CLI's subcommands need, built
// from config.Load() by newDeps at the start of each subcommand's RunE.
type deps struct {
	cfg      *config.Config
	queue    *queue.Queue
	profiles *collabregistry.ProfilesRegistry
	lists    *collabregistry.ListsRegistry
	resolver *profileresolver.Resolver
	builds   *buildregistry.Registry
	files    *filesindex.Index
	executor *imagebuilder.Executor
	log      *logger.Logger
}

func newDeps() (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	q := queue.New(cfg.BuildsDir + "/queue.json")
	profiles := collabregistry.NewProfilesRegistry(cfg.ProfilesDir)
	lists := collabregistry.NewListsRegistry(cfg.ListsDir)
	resolver := profileresolver.New(profiles, lists)
	builds := buildregistry.New(cfg.BuildsDir, profiles, q)
	files := filesindex.New(cfg.FilesDir)
	executor := imagebuilder.New(cfg.BuildsDir, cfg.FilesDir, cfg.CacheDir, cfg.WrapperDir, cfg.BuildJobs, resolver)

	return &deps{
		cfg:      cfg,
		queue:    q,
		profiles: profiles,
		lists:    lists,
		resolver: resolver,
		builds:   builds,
		files:    files,
		executor: executor,
		log:      logger.NewLogger(),
	}, nil
}
