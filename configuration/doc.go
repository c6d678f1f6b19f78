// SPDX-License-Identifier: ISC
// Copyright (c) 2018-2020 Veridian Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package configuration - read Lua configuration files
//
// a configuration file is a Lua script whose final expression is a
// table; the table is mapped onto a Go structure
package configuration
