// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package taskdist

import (
	"crypto"
	// Imported for the sha256 implementation, which stores use for
	// content integrity checks.
	_ "crypto/sha256"

	"github.com/grailbio/base/digest"
)

// Digester is the digester used throughout taskdist. We use a SHA256
// digest.
var Digester = digest.Digester(crypto.SHA256)
