// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package v2

import (
	"fmt"
	"os"
	"path/filepath"
)

// dataFileName formats a data file's name, file_id zero-padded to 5
// digits.
func dataFileName(dir string, fileID uint16) string {
	return filepath.Join(dir, fmt.Sprintf("data-%05d.dat", fileID))
}

func nextFileID(id uint16) uint16 {
	if id == MaxDataFiles-1 {
		return 0
	}
	return id + 1
}

func dataFileExists(dir string, fileID uint16) bool {
	_, err := os.Stat(dataFileName(dir, fileID))
	return err == nil
}

// totalDataBytes sums the on-disk size of every data file in dir.
func totalDataBytes(dir string) int64 {
	matches, err := filepath.Glob(filepath.Join(dir, "data-*.dat"))
	if err != nil {
		return 0
	}
	var total int64
	for _, path := range matches {
		if fi, err := os.Stat(path); err == nil {
			total += fi.Size()
		}
	}
	return total
}
