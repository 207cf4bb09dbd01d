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

package version

import (
	"net/http"
	"runtime/debug"

	"github.com/Masterminds/semver"
	"github.com/go-chi/render"
	"github.com/pkg/errors"

	"github.com/dapperlabs/fork-journal/build"
)

const gethPath = "github.com/ethereum/go-ethereum"

// Handler reports the API version and the version of the client library executing
// transactions against forks.
func Handler(w http.ResponseWriter, r *http.Request) {
	version := struct {
		API      string `json:"api"`
		Ethereum string `json:"ethereum"`
	}{
		API:      "n/a",
		Ethereum: "n/a",
	}

	apiVer := build.Version()
	if apiVer != nil {
		version.API = apiVer.String()
	}

	gethVer, err := getDependencyVersion(gethPath)
	if err == nil {
		if v, err := semver.NewVersion(gethVer); err == nil {
			version.Ethereum = v.String()
		}
	}

	render.JSON(w, r, version)
}

func getDependencyVersion(path string) (string, error) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "", errors.New("failed to read build info")
	}

	for _, dep := range bi.Deps {
		if dep.Path == path {
			return dep.Version, nil
		}
	}

	return "", errors.New("dependency not found")
}
