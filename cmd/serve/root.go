package serve

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dMDS/cmd/util"
	"github.com/ValentinKolb/dMDS/lib/admin"
	"github.com/ValentinKolb/dMDS/lib/common"
	"github.com/ValentinKolb/dMDS/lib/objstore"
	"github.com/ValentinKolb/dMDS/lib/sessionmap"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	log = logger.GetLogger("cmd")

	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Run the session map of a metadata node",
		Long:    `Load the session map of a metadata node from the object store, keep it durable and serve the admin API. The configuration can be set via command line flags or environment variables. The format of the environment variables is DMDS_<flag> (e.g. DMDS_SAVE_INTERVAL=10s)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	cmdUtil.SetupStoreFlags(ServeCmd)

	key := "create"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Create an empty session map if the store holds none yet"))

	key = "save-interval"
	ServeCmd.PersistentFlags().Duration(key, 5*time.Second, cmdUtil.WrapString("How often a dirty session map is saved (0 disables autosave)"))

	key = "admin-endpoint"
	ServeCmd.PersistentFlags().String(key, "localhost:8080", cmdUtil.WrapString("The address the admin API listens on (empty disables it)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := cmdUtil.ReadStoreConfig(serveCmdConfig); err != nil {
		return err
	}

	serveCmdConfig.Create = viper.GetBool("create")
	serveCmdConfig.SaveInterval = viper.GetDuration("save-interval")
	serveCmdConfig.AdminEndpoint = viper.GetString("admin-endpoint")

	return serveCmdConfig.Validate()
}

func run(_ *cobra.Command, _ []string) error {
	conf := *serveCmdConfig
	if err := common.InitLoggers(conf); err != nil {
		return err
	}
	log.Infof("starting with configuration:\n%s", conf.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := cmdUtil.OpenStore(ctx, conf)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warningf("closing store failed: %v", err)
		}
	}()

	sm := sessionmap.New(conf.SessionMapConfig(), store)
	defer sm.Close()

	if err := load(ctx, sm, conf.Create); err != nil {
		return err
	}

	errc := make(chan error, 1)
	var srv *admin.Server
	if conf.AdminEndpoint != "" {
		srv = admin.NewServer(sm, conf.LogLevel == "debug")
		go func() { errc <- srv.ListenAndServe(conf.AdminEndpoint) }()
	}

	var tick <-chan time.Time
	if conf.SaveInterval > 0 {
		ticker := time.NewTicker(conf.SaveInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			autosave(sm)
		case err := <-errc:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			log.Infof("shutting down")
			return shutdown(conf, sm, srv)
		}
	}
}

// load installs the stored session map. With create set a missing object is
// replaced by an empty map, which is written right away.
func load(ctx context.Context, sm *sessionmap.SessionMap, create bool) error {
	err := sm.LoadSync(ctx)
	if err == nil || !create || !objstore.IsNotFound(err) {
		return err
	}

	log.Warningf("no session map at %s, creating an empty one", sm.Key())
	return sm.SaveSync(ctx, 0)
}

// autosave starts a save of the live version if the map holds changes that are not durable yet.
func autosave(sm *sessionmap.SessionMap) {
	var dirty bool
	var version uint64
	if err := sm.Query(func(d *sessionmap.Directory) {
		dirty, version = d.Dirty(), d.Version()
	}); err != nil || !dirty {
		return
	}

	start := time.Now()
	sm.Save(func(err error) {
		if err != nil {
			log.Errorf("autosave of v%d failed: %v", version, err)
			return
		}
		log.Debugf("autosave of v%d took %s", version, time.Since(start))
	}, version)
}

// shutdown makes the map durable one last time and stops the admin API.
func shutdown(conf common.ServerConfig, sm *sessionmap.SessionMap, srv *admin.Server) error {
	timeout := conf.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if srv != nil {
		errs = append(errs, srv.Shutdown(ctx))
	}
	if err := sm.SaveSync(ctx, 0); err != nil {
		errs = append(errs, err)
	} else {
		log.Infof("session map saved")
	}
	return errors.Join(errs...)
}
