// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

/*
Package core holds the concepts and pure logic of the state store:
actions, fields, hooks, the store itself, and the developer log.

A few rules apply when adding to core:

  - it's fine to import from any subpackage of "github.com/juju/unistate/core"
  - subpackages other than store must not depend on store
  - the only mutable global state lives in devlog, and it is purely
    observational; nothing in devlog may influence store behaviour
*/
package core
