//go:build !linux

package forked

import "syscall"

func sysProcAttr() *syscall.SysProcAttr { return nil }
