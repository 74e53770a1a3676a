// Package app bootstraps the library: it loads the configuration, wires
// the cache, the cryptography pipeline and the connection manager, and
// runs until the root context is cancelled. Services that only need the
// data layer can embed their whole lifecycle in a CJApp.
package app

import (
	"golang.org/x/sync/errgroup"

	"github.com/HandsomeChen0407/cjdb/cache"
	"github.com/HandsomeChen0407/cjdb/configuration"
	"github.com/HandsomeChen0407/cjdb/core"
	"github.com/HandsomeChen0407/cjdb/databases"
	"github.com/HandsomeChen0407/cjdb/log"
	"github.com/HandsomeChen0407/cjdb/redis"
	"github.com/HandsomeChen0407/cjdb/securememory"
	"github.com/HandsomeChen0407/cjdb/sensitive"
	"github.com/HandsomeChen0407/cjdb/utils/snowflake"
)

type CJAppEvent func() (err error)

type CJApp struct {
	NameId  string
	Title   string
	Version string

	// ConfigurationFilename defaults to "configuration.yaml".
	ConfigurationFilename string

	// OnDefineEntities registers the application's tables with the entity
	// manager. Runs after the configuration is loaded, before connecting.
	OnDefineEntities CJAppEvent
	// OnStartUp runs once everything is connected.
	OnStartUp CJAppEvent
	// OnShutdown runs before the connections are closed.
	OnShutdown CJAppEvent

	RuntimeErrorGroup *errgroup.Group
}

var App = CJApp{
	ConfigurationFilename: "configuration.yaml",
}

func Set(nameId, title, version string) *CJApp {
	App.NameId = nameId
	App.Title = title
	App.Version = version
	return &App
}

// Setup loads the configuration and wires every manager. It does not
// connect yet.
func (a *CJApp) Setup() error {
	err := configuration.Manager.Load(a.ConfigurationFilename)
	if err != nil {
		return err
	}
	options := &configuration.Manager.Options
	if options.Snowflake.WorkerId != 0 {
		err = snowflake.SetDefaultWorkerId(options.Snowflake.WorkerId)
		if err != nil {
			return err
		}
	}
	err = redis.Manager.LoadFromConfiguration()
	if err != nil {
		return err
	}
	err = databases.Manager.LoadFromConfiguration()
	if err != nil {
		return err
	}
	if a.OnDefineEntities != nil {
		err = a.OnDefineEntities()
		if err != nil {
			return err
		}
	}
	return nil
}

// Start connects everything and blocks until the root context is
// cancelled. The cache and the field cipher are only wired here because
// both may need a live redis or vault connection.
func (a *CJApp) Start() error {
	err := redis.Manager.ConnectAllAtStart()
	if err != nil {
		return err
	}
	err = cache.Configure()
	if err != nil {
		return err
	}
	cipher, err := sensitive.ResolveFieldCipher()
	if err != nil {
		return err
	}
	err = databases.Manager.Initialize(cipher)
	if err != nil {
		return err
	}
	err = databases.Manager.ConnectAllAtStart()
	if err != nil {
		return err
	}
	if a.OnStartUp != nil {
		err = a.OnStartUp()
		if err != nil {
			return err
		}
	}
	log.Log.Infof("%s %s started", a.NameId, a.Version)

	group, groupCtx := errgroup.WithContext(core.RootContext)
	a.RuntimeErrorGroup = group
	group.Go(func() error {
		<-groupCtx.Done()
		return nil
	})
	err = group.Wait()
	a.stop()
	return err
}

// Run is Setup followed by Start.
func (a *CJApp) Run() error {
	err := a.Setup()
	if err != nil {
		return err
	}
	return a.Start()
}

func (a *CJApp) stop() {
	if a.OnShutdown != nil {
		err := a.OnShutdown()
		if err != nil {
			log.Log.Errorf("Shutdown callback failed: %v", err)
		}
	}
	err := databases.Manager.DisconnectAll()
	if err != nil {
		log.Log.Errorf("Database disconnect failed: %v", err)
	}
	err = redis.Manager.DisconnectAll()
	if err != nil {
		log.Log.Errorf("Redis disconnect failed: %v", err)
	}
	securememory.Manager.DestroyAll()
	log.Log.Infof("%s stopped", a.NameId)
}
