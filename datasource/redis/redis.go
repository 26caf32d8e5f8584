package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

type Redis struct {
	Name   string
	Client *redis.Client
}

var redisInstances sync.Map

func GetRedis(name string) (*Redis, error) {
	value, ok := redisInstances.Load(name)
	if !ok {
		return nil, fmt.Errorf("Redis not found, name:%s", name)
	}

	instance, ok := value.(*Redis)
	if !ok {
		return nil, fmt.Errorf("Redis not found, name:%s", name)
	}
	return instance, nil
}

func RegisterRedis(name, address, password string, db int) error {
	if _, ok := redisInstances.Load(name); ok {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         address,
		Password:     password,
		DB:           db,
		DialTimeout:  time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		PoolSize:     100,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("event=RegisterRedis\tname=%s\terr=%w", name, err)
	}
	redisInstances.Store(name, &Redis{Name: name, Client: client})
	return nil
}

func RemoveRedis(name string) {
	value, ok := redisInstances.LoadAndDelete(name)
	if !ok {
		return
	}
	if r, ok := value.(*Redis); ok && r.Client != nil {
		r.Client.Close()
	}
}
