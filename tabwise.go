/*
Copyright 2024 Tabwise Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package tabwise

import (
	"sync/atomic"

	"github.com/tabwise-finance/tabwise/config"
	"github.com/tabwise-finance/tabwise/database"
	"github.com/tabwise-finance/tabwise/internal/apierror"
	redis_db "github.com/tabwise-finance/tabwise/internal/redis-db"

	"github.com/redis/go-redis/v9"
)

// Tabwise represents the main struct for the Tabwise settlement engine.
type Tabwise struct {
	relay      Relay
	tokens     TokenTransferor
	redis      redis.UniversalClient
	datasource database.IDataSource
	paused     atomic.Bool
}

// NewTabwise initializes a new instance of Tabwise with the provided database datasource.
// It fetches the configuration and initializes the Redis client, the relay queue and the
// token gateway client.
//
// Parameters:
// - db database.IDataSource: The datasource for database operations.
//
// Returns:
// - *Tabwise: A pointer to the newly created Tabwise instance.
// - error: An error if any of the initialization steps fail.
func NewTabwise(db database.IDataSource) (*Tabwise, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient(configuration.Redis.Dns)
	if err != nil {
		return nil, err
	}
	newRelay := NewRelayQueue(configuration)
	newTokens := NewTokenGateway(configuration)

	newTabwise := &Tabwise{datasource: db, relay: newRelay, tokens: newTokens, redis: redisClient.Client()}
	return newTabwise, nil
}

// Pause stops all state-changing operations. Reads keep working.
func (t *Tabwise) Pause() {
	t.paused.Store(true)
}

// Resume lifts a pause.
func (t *Tabwise) Resume() {
	t.paused.Store(false)
}

// Paused reports whether the engine is currently paused.
func (t *Tabwise) Paused() bool {
	return t.paused.Load()
}

// checkActive gates every mutating operation behind the pause flag.
func (t *Tabwise) checkActive() error {
	if t.paused.Load() {
		return apierror.NewAPIError(apierror.ErrConflict, "Engine is paused", nil)
	}
	return nil
}
