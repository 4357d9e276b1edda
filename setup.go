package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-kit/log/level"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/repository"
	"github.com/mailio/go-mailio-datawallet/services"
	"github.com/mailio/go-mailio-datawallet/types"
)

// Configure DB Repositories and create DB Selector
func ConfigDBSelector(conf *global.Config) repository.DBSelector {
	dbSelector := repository.NewCouchDBSelector()
	switch conf.Database.Type {
	case "memory":
		level.Warn(global.Logger).Log("msg", "using in-memory repositories, data is lost on restart")
		for _, name := range repository.AllDatabases {
			dbSelector.AddDB(repository.NewMemoryRepository(name))
		}
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		pool, err := pgxpool.New(ctx, conf.Postgres.Url)
		if err != nil {
			panic(fmt.Sprintf("failed to connect to postgres: %v", err))
		}
		if pErr := pool.Ping(ctx); pErr != nil {
			panic(fmt.Sprintf("postgres not reachable: %v", pErr))
		}
		for _, name := range repository.AllDatabases {
			repo, rErr := repository.NewPostgresRepository(ctx, pool, name)
			if rErr != nil {
				global.Logger.Log("error", "Failed to create repositories", "error", rErr.Error())
				panic(rErr)
			}
			dbSelector.AddDB(repo)
		}
	default:
		// configure Repository (couchDB)
		repoUrl := conf.CouchDB.Scheme + "://" + conf.CouchDB.Host + ":" + strconv.Itoa(conf.CouchDB.Port)
		var repoErr error
		for _, name := range repository.AllDatabases {
			repo, err := repository.NewCouchDBRepository(repoUrl, name, conf.CouchDB.Username, conf.CouchDB.Password, false)
			if err != nil {
				repoErr = errors.Join(repoErr, err)
				continue
			}
			dbSelector.AddDB(repo)
		}
		if repoErr != nil {
			global.Logger.Log("error", "Failed to create repositories", "error", repoErr.Error())
			panic(repoErr)
		}
		if iErr := repository.CreateDataWalletIndexes(dbSelector); iErr != nil {
			global.Logger.Log("error", "Failed to create indexes", "error", iErr.Error())
			panic(iErr)
		}
	}
	return dbSelector
}

// ConfigContentStore selects where email wallets are stored
func ConfigContentStore(conf *global.Config, env *types.Environment) services.ContentStore {
	if conf.Storage.Type == "s3" {
		ConfigS3Storage(conf, env)
		return services.NewS3Service(env)
	}
	return services.NewIpfsService(conf.Ipfs)
}

func ConfigS3Storage(conf *global.Config, env *types.Environment) {
	// configure S3 storage
	credentials := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(conf.Storage.Key, conf.Storage.Secret, ""))
	awsConf, err := config.LoadDefaultConfig(context.TODO(), config.WithCredentialsProvider(credentials), config.WithRegion(conf.Storage.Region))
	if err != nil {
		panic(err)
	}
	s3Client := s3.NewFromConfig(awsConf)
	env.S3Client = s3Client
	env.S3Uploader = manager.NewUploader(s3Client)
}

// ConfigSweeps registers the periodic authorization expiry and stalled task sweeps
func ConfigSweeps(conf *global.Config, env *types.Environment, processing *services.ProcessingService) {
	expire := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		n, err := processing.ExpireAuthorizations(ctx)
		if err != nil {
			level.Error(global.Logger).Log("msg", "authorization sweep failed", "error", err)
			return
		}
		if n > 0 {
			level.Info(global.Logger).Log("msg", "expired authorization requests", "count", n)
		}
	}
	stalledAfter := time.Duration(conf.Queue.RequeueStalledMinutes) * time.Minute
	requeue := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		n, err := processing.RequeueStalled(ctx, stalledAfter)
		if err != nil {
			level.Error(global.Logger).Log("msg", "stalled task sweep failed", "error", err)
			return
		}
		if n > 0 {
			level.Info(global.Logger).Log("msg", "requeued stalled tasks", "count", n)
		}
	}

	// cron jobs
	if _, err := env.Cron.AddFunc(fmt.Sprintf("@every %dm", conf.Authorization.SweepIntervalMinutes), expire); err != nil {
		panic(err)
	}
	if _, err := env.Cron.AddFunc(fmt.Sprintf("@every %dm", conf.Queue.RequeueStalledMinutes), requeue); err != nil {
		panic(err)
	}
	env.Cron.Start()
	go requeue() // pick up tasks interrupted by the previous shutdown
}
