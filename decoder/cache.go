/*
 * Fork Journal
 *
 * Copyright 2019 Dapper Labs, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *   http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package decoder

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/getsentry/sentry-go"
	lru "github.com/hashicorp/golang-lru"

	"github.com/dapperlabs/fork-journal/model"
)

// newLruCache wraps creating a new lru cache in error handling
func newLruCache(capacity int) *lru.Cache {
	cache, err := lru.New(capacity)
	if err != nil {
		sentry.CaptureException(err)
		return nil
	}
	return cache
}

// defaultCacheSize is used when the configured capacity is not positive.
const defaultCacheSize = 1024

// infoCache caches resolved contract info by call. It is safe for concurrent use.
//
// The key covers the target and the full calldata since the decoded arguments are part
// of the info. Entries are dropped when the registry learns a new ABI for an address.
type infoCache struct {
	cache *lru.Cache
}

func newInfoCache(capacity int) *infoCache {
	if capacity <= 0 {
		capacity = defaultCacheSize
	}
	return &infoCache{cache: newLruCache(capacity)}
}

func cacheKey(tx model.Transaction) common.Hash {
	return crypto.Keccak256Hash(tx.To.Bytes(), tx.Data)
}

// reset drops every cached entry.
func (c *infoCache) reset() {
	if c.cache == nil {
		return
	}
	c.cache.Purge()
}

// get returns cached info for the call if it exists
func (c *infoCache) get(tx model.Transaction) *model.ContractInfo {
	if c.cache == nil {
		return nil
	}

	val, ok := c.cache.Get(cacheKey(tx))
	if !ok {
		return nil
	}

	info := val.(model.ContractInfo)
	return &info
}

// add resolved info to the cache.
func (c *infoCache) add(tx model.Transaction, info *model.ContractInfo) {
	if c.cache == nil {
		return
	}

	c.cache.Add(cacheKey(tx), *info)
}

func (c *infoCache) len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}
