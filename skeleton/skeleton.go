// Package skeleton provides a read-only handle on a rig's joint hierarchy:
// names, parent indices, default (bind) poses and absolute-pose evaluation
// over a working pose vector. The solver never mutates a skeleton.
package skeleton

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/bodyik/spatialmath"
)

// Joint describes one joint of the hierarchy. Parent is -1 for a root.
// DefaultPose is the joint's bind pose relative to its parent.
type Joint struct {
	Name        string
	Parent      int
	DefaultPose spatialmath.Pose
}

// Skeleton is an ordered joint hierarchy where every parent precedes its
// children. Immutable after construction.
type Skeleton struct {
	joints           []Joint
	nameToIndex      map[string]int
	absoluteDefaults []spatialmath.Pose
	maxChainDepth    int
}

// New validates the joint list and builds a skeleton from it. Parents must
// precede children and names must be unique.
func New(joints []Joint) (*Skeleton, error) {
	var err error
	nameToIndex := make(map[string]int, len(joints))
	for i, j := range joints {
		if j.Parent >= i {
			err = multierr.Append(err, errors.Errorf("joint %q (index %d) has parent index %d; parents must precede children", j.Name, i, j.Parent))
		}
		if j.Parent < -1 {
			err = multierr.Append(err, errors.Errorf("joint %q (index %d) has invalid parent index %d", j.Name, i, j.Parent))
		}
		if _, ok := nameToIndex[j.Name]; ok {
			err = multierr.Append(err, errors.Errorf("duplicate joint name %q", j.Name))
		}
		nameToIndex[j.Name] = i
	}
	if err != nil {
		return nil, err
	}

	s := &Skeleton{
		joints:           append([]Joint{}, joints...),
		nameToIndex:      nameToIndex,
		absoluteDefaults: make([]spatialmath.Pose, len(joints)),
	}
	depths := make([]int, len(joints))
	for i, j := range s.joints {
		if j.Parent < 0 {
			s.absoluteDefaults[i] = j.DefaultPose
			depths[i] = 1
		} else {
			s.absoluteDefaults[i] = s.absoluteDefaults[j.Parent].Compose(j.DefaultPose)
			depths[i] = depths[j.Parent] + 1
		}
		if depths[i] > s.maxChainDepth {
			s.maxChainDepth = depths[i]
		}
	}
	return s, nil
}

// NumJoints returns the joint count.
func (s *Skeleton) NumJoints() int {
	return len(s.joints)
}

// JointName returns the name of joint i.
func (s *Skeleton) JointName(i int) string {
	return s.joints[i].Name
}

// ParentIndex returns the parent index of joint i, or -1 for a root.
func (s *Skeleton) ParentIndex(i int) int {
	return s.joints[i].Parent
}

// NameToIndex returns the index of the named joint, or -1 if absent.
func (s *Skeleton) NameToIndex(name string) int {
	if i, ok := s.nameToIndex[name]; ok {
		return i
	}
	return -1
}

// RelativeDefaultPose returns joint i's bind pose relative to its parent.
func (s *Skeleton) RelativeDefaultPose(i int) spatialmath.Pose {
	return s.joints[i].DefaultPose
}

// AbsoluteDefaultPose returns joint i's bind pose in the geometry frame.
func (s *Skeleton) AbsoluteDefaultPose(i int) spatialmath.Pose {
	return s.absoluteDefaults[i]
}

// RelativeDefaultPoses returns a copy of all parent-relative bind poses.
func (s *Skeleton) RelativeDefaultPoses() []spatialmath.Pose {
	poses := make([]spatialmath.Pose, len(s.joints))
	for i := range s.joints {
		poses[i] = s.joints[i].DefaultPose
	}
	return poses
}

// AbsolutePose evaluates joint i's absolute pose over the given
// parent-relative pose vector.
func (s *Skeleton) AbsolutePose(i int, relative []spatialmath.Pose) spatialmath.Pose {
	pose := relative[i]
	for p := s.joints[i].Parent; p >= 0; p = s.joints[p].Parent {
		pose = relative[p].Compose(pose)
	}
	return pose
}

// ConvertRelativeToAbsolute converts a parent-relative pose vector to
// absolute poses in place.
func (s *Skeleton) ConvertRelativeToAbsolute(poses []spatialmath.Pose) {
	for i := range poses {
		if p := s.joints[i].Parent; p >= 0 {
			poses[i] = poses[p].Compose(poses[i])
		}
	}
}

// MaxChainDepth returns the longest root-to-leaf joint count, used to size
// solver scratch buffers once per binding.
func (s *Skeleton) MaxChainDepth() int {
	return s.maxChainDepth
}

// BaseJointName strips a "Left" or "Right" prefix from a joint name and
// reports the side as a mirror factor: -1 for Left, +1 otherwise. Constraint
// authoring uses the base name so both sides share one table entry.
func BaseJointName(name string) (string, float64) {
	if strings.HasPrefix(name, "Left") {
		return name[len("Left"):], -1
	}
	if strings.HasPrefix(name, "Right") {
		return name[len("Right"):], 1
	}
	return name, 1
}
