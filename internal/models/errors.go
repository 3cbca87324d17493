package models

import (
	"fmt"
	"strings"
	"time"
)

/**
 * Fatal configuration error: the dependency graph contains a cycle
 * @property {[]string} members - Names of the services (or pods) on the cycle
 */
type CyclicDependencyError struct {
	Scope   string
	Members []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("%s: cyclic dependency between [%s]", e.Scope, strings.Join(e.Members, ", "))
}

/**
 * Fatal configuration error: a pod's subnet overlaps an already-provisioned one
 */
type NetworkConflictError struct {
	Pod      string
	Subnet   string
	OtherPod string
}

func (e *NetworkConflictError) Error() string {
	return fmt.Sprintf("pod %s: subnet %s conflicts with pod %s", e.Pod, e.Subnet, e.OtherPod)
}

/**
 * A hard dependency did not reach HEALTHY within the bounded wait
 */
type DependencyTimeoutError struct {
	Pod        string
	Service    string
	Dependency string
	Timeout    time.Duration
}

func (e *DependencyTimeoutError) Error() string {
	return fmt.Sprintf("pod %s: service %s: dependency %s not healthy within %s",
		e.Pod, e.Service, e.Dependency, e.Timeout)
}

/**
 * A service's build action failed; aborts the pod's build sequence
 */
type BuildError struct {
	Pod     string
	Service string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("pod %s: service %s: build failed: %v", e.Pod, e.Service, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
