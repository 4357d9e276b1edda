package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-kit/log/level"
	"github.com/go-redis/redis_rate/v10"
	"github.com/hibiken/asynq"
	"github.com/mailio/go-mailio-datawallet/apiroutes"
	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/queue"
	"github.com/mailio/go-mailio-datawallet/services"
	"github.com/mailio/go-mailio-datawallet/types"
	cfg "github.com/mailio/go-web3-kit/config"
	w3srv "github.com/mailio/go-web3-kit/gingonic"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sys/unix"
)

func loadServerEd25519Keys(conf global.Config) {
	serverKeysBytes, err := os.ReadFile(conf.Mailio.ServerKeysPath)
	if err != nil {
		panic(err)
	}
	var serverKeysJson types.ServerKeys
	err = json.Unmarshal(serverKeysBytes, &serverKeysJson)
	if err != nil {
		panic(err)
	}
	decodedPrivBytes, err := base64.StdEncoding.DecodeString(serverKeysJson.PrivateKey)
	if err != nil {
		panic(fmt.Sprintf("Failed to decode servers private key %s", err.Error()))
	}
	if len(decodedPrivBytes) != ed25519.PrivateKeySize {
		panic(types.ErrInvalidPrivateKey)
	}
	// The public key is the last 32 bytes of the private key
	publicKeyBytes := decodedPrivBytes[32:]

	global.PublicKey = ed25519.PublicKey(publicKeyBytes)
	global.PrivateKey = ed25519.PrivateKey(decodedPrivBytes)
}

func redisAddr(conf global.Config) string {
	return conf.Redis.Host + ":" + strconv.Itoa(conf.Redis.Port)
}

func initRedisRateLimiter(conf global.Config) *redis.Client {
	redisRateLimitClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr(conf),
		Username: conf.Redis.Username,
		Password: conf.Redis.Password,
		DB:       1,
	})

	// clears all data in the Redis database associated with the 'redisRateLimitClient' ignoring potential errors
	rCtx, rCancel := context.WithTimeout(context.Background(), time.Second*10)
	defer rCancel()

	_ = redisRateLimitClient.FlushDB(rCtx).Err()

	limiter := redis_rate.NewLimiter(redisRateLimitClient)
	global.RateLimiter = limiter

	return redisRateLimitClient
}

// redis client for message deduplication and cancellation flags
func initRedisClient(conf global.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr(conf),
		Username: conf.Redis.Username,
		Password: conf.Redis.Password,
		DB:       0,
	})
	rCtx, rCancel := context.WithTimeout(context.Background(), time.Second*10)
	defer rCancel()
	if err := client.Ping(rCtx).Err(); err != nil {
		panic(fmt.Sprintf("redis not reachable at %s: %v", redisAddr(conf), err))
	}
	return client
}

// calculates the retry delay using exponential backoff
// Here, baseDelay is the initial delay, and maxDelay caps the delay duration
func asyncRetryDelayFunc(attempt int, err error, t *asynq.Task) time.Duration {
	baseDelay := 30 * time.Second
	maxDelay := 30 * time.Minute

	delay := baseDelay * time.Duration(1<<attempt) // Double the delay with each retry
	if delay > maxDelay {
		delay = maxDelay
	}

	return delay
}

func asyncRedisOpt(conf global.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     redisAddr(conf),
		Username: conf.Redis.Username,
		Password: conf.Redis.Password,
		DB:       2,
	}
}

// initalizes the async queue and starts the pipeline workers
func initAsyncQueue(processing *services.ProcessingService) *asynq.Server {
	logLevel := asynq.InfoLevel
	if global.Conf.Mode != "debug" {
		logLevel = asynq.WarnLevel
	}

	taskServer := asynq.NewServer(
		asyncRedisOpt(global.Conf),
		asynq.Config{
			Concurrency:    global.Conf.Queue.Concurrency,
			LogLevel:       logLevel,
			RetryDelayFunc: asyncRetryDelayFunc, // overriding the default retry delay function
		},
	)

	pipelineQueue := queue.NewPipelineQueue(processing)
	mux := asynq.NewServeMux()
	mux.HandleFunc(types.QueueTypeEmailProcess, pipelineQueue.ProcessEmailTask)
	mux.HandleFunc(types.QueueTypeEmailResume, pipelineQueue.ProcessEmailTask)

	if err := taskServer.Start(mux); err != nil {
		log.Fatalf("could not start server: %v", err)
	}
	return taskServer
}

func main() {
	var (
		configFile string
	)
	// configuration file optional path. Default:  current dir with  filename conf.yaml
	flag.StringVar(&configFile, "c", "conf.yaml", "Configuration file path.")
	flag.StringVar(&configFile, "config", "conf.yaml", "Configuration file path.")
	flag.Usage = usage
	flag.Parse()

	// loading configuration file
	err := cfg.NewYamlConfig(configFile, &global.Conf)
	if err != nil {
		global.Logger.Log(err, "conf.yaml failed to load")
		panic("Failed to load conf.yaml")
	}
	global.Conf.ApplyDefaults()
	global.ConfigureLogger(global.Conf.Mode)
	if vErr := global.ValidateConfig(&global.Conf); vErr != nil {
		level.Error(global.Logger).Log("msg", "invalid configuration", "error", vErr)
		panic(vErr)
	}

	// loads server keys used to sign wallet records
	loadServerEd25519Keys(global.Conf)
	rrClient := initRedisRateLimiter(global.Conf)
	defer rrClient.Close()

	redisClient := initRedisClient(global.Conf)
	defer redisClient.Close()

	taskClient := asynq.NewClient(asyncRedisOpt(global.Conf))
	defer taskClient.Close()

	env := types.NewEnvironment(redisClient, taskClient)
	defer env.Cron.Stop()

	// server wait to shutdown monitoring channels
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	stop := make(chan os.Signal, 1)

	signal.Notify(quit, os.Interrupt)
	signal.Notify(stop, os.Interrupt, unix.SIGTSTP)

	// init routing (for RESTful API endpoints)
	router := w3srv.NewAPIRouter(&global.Conf.YamlConfig)

	dbSelector := ConfigDBSelector(&global.Conf)
	store := ConfigContentStore(&global.Conf, env)
	ledger := services.NewLedgerService(global.Conf.Ledger)

	pipeline := services.NewPipeline(dbSelector, env, store, ledger, global.PrivateKey, &global.Conf)
	pipeline.Processing.SetScheduler(queue.NewAsynqScheduler(env, global.Conf.Queue.MaxRetry))

	// initialize the async queue
	taskServer := initAsyncQueue(pipeline.Processing)

	ConfigSweeps(&global.Conf, env, pipeline.Processing)

	// configure routes
	router = apiroutes.ConfigRoutes(router, pipeline, global.RateLimiter)

	// start server
	srv := w3srv.Start(&global.Conf.YamlConfig, router)
	// wait for server shutdown
	go w3srv.Shutdown(srv, quit, done)

	// stop the async queue server
	go func() {
		for {
			s := <-stop
			if s == unix.SIGTSTP {
				global.Logger.Log("msg", "task queue server stops pulling new tasks")
				taskServer.Stop() // Stop processing new tasks
				continue
			}
			break
		}
		global.Logger.Log("msg", "shutting down task queue server")
		taskServer.Shutdown()
	}()

	global.Logger.Log("Server is ready to handle requests at", global.Conf.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("%v\n", err))
	}

	<-done

}

// usage will print out the flag options for the server.
func usage() {
	usageStr := `Usage: datawallet [options]
	Server Options:
	-c, --config <file>              Configuration file path
`
	fmt.Printf("%s\n", usageStr)
	os.Exit(0)
}
