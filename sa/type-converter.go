// Copyright 2015 ISRG.  All rights reserved
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sa

import (
	"encoding/json"
	"errors"

	"github.com/letsencrypt/borp"
)

// PkdTypeConverter teaches borp how to store the handful of Go types our
// domain rows carry that don't map onto a SQL scalar directly: string
// slices and string-keyed count maps, stored as JSON text. Every other
// value, the domain's string-backed enum types included, passes through
// unchanged.
type PkdTypeConverter struct{}

// ToDb converts a domain value into one borp can hand the driver.
func (tc PkdTypeConverter) ToDb(val interface{}) (interface{}, error) {
	switch t := val.(type) {
	case []string, map[string]int:
		jsonBytes, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return string(jsonBytes), nil
	default:
		return val, nil
	}
}

// FromDb converts a DB representation back into a domain value.
func (tc PkdTypeConverter) FromDb(target interface{}) (borp.CustomScanner, bool) {
	switch target.(type) {
	case *[]string, *map[string]int:
		binder := func(holder, target interface{}) error {
			s, ok := holder.(*string)
			if !ok {
				return errors.New("FromDb: unable to convert holder to *string")
			}
			if *s == "" {
				return nil
			}
			return json.Unmarshal([]byte(*s), target)
		}
		return borp.CustomScanner{Holder: new(string), Target: target, Binder: binder}, true
	default:
		return borp.CustomScanner{}, false
	}
}
