package diag

import (
	"fmt"
)

type Code uint16

const (
	// Неизвестная ошибка
	UnknownCode Code = 0

	// Сообщения компилятора
	CompilerInfo              Code = 1000
	CompilerMessage           Code = 1001
	CompilerAccessRestriction Code = 1002
	CompilerDuplicateType     Code = 1003
	CompilerUnmappedOutput    Code = 1004

	// Classpath
	ClasspathInfo       Code = 2000
	ClasspathMissing    Code = 2001
	ClasspathUnreadable Code = 2002
	ClasspathBadClass   Code = 2003
	ClasspathBadExports Code = 2004

	// Ошибки проекта / DAG
	ProjInfo             Code = 3000
	ProjDuplicateModule  Code = 3001
	ProjMissingModule    Code = 3002
	ProjSelfDependency   Code = 3003
	ProjDependencyCycle  Code = 3004
	ProjDependencyFailed Code = 3005

	// Состояние сборки
	StateInfo      Code = 4000
	StateDiscarded Code = 4001
)

var codeDescription = map[Code]string{
	UnknownCode:               "Unknown error",
	CompilerInfo:              "Compiler information",
	CompilerMessage:           "Compiler message",
	CompilerAccessRestriction: "Access restriction",
	CompilerDuplicateType:     "Type declared by more than one source",
	CompilerUnmappedOutput:    "Output not attributable to a source",
	ClasspathInfo:             "Classpath information",
	ClasspathMissing:          "Classpath entry does not exist",
	ClasspathUnreadable:       "Classpath entry cannot be read",
	ClasspathBadClass:         "Malformed class file on classpath",
	ClasspathBadExports:       "Malformed export-package list",
	ProjInfo:                  "Project information",
	ProjDuplicateModule:       "Duplicate module",
	ProjMissingModule:         "Unknown module dependency",
	ProjSelfDependency:        "Module depends on itself",
	ProjDependencyCycle:       "Module dependency cycle",
	ProjDependencyFailed:      "Dependency module failed",
	StateInfo:                 "Build state information",
	StateDiscarded:            "Build state discarded",
}

// ID is the stable textual form, e.g. "KLN1001".
func (c Code) ID() string {
	return fmt.Sprintf("KLN%04d", uint16(c))
}

func (c Code) Title() string {
	if d, ok := codeDescription[c]; ok {
		return d
	}
	return codeDescription[UnknownCode]
}

func (c Code) String() string {
	return c.ID()
}
