package ecs_test

import (
	"github.com/plus3/weft/ecs"
)

// Component type factories return fresh declarations so every test world
// owns its own types.

func positionType() *ecs.ComponentType {
	return &ecs.ComponentType{
		Name: "Position",
		Fields: []ecs.Field{
			{Name: "x", Type: ecs.Float64},
			{Name: "y", Type: ecs.Float64},
		},
	}
}

func velocityType() *ecs.ComponentType {
	return &ecs.ComponentType{
		Name: "Velocity",
		Fields: []ecs.Field{
			{Name: "dx", Type: ecs.Float64, Default: 1.0},
			{Name: "dy", Type: ecs.Float64},
		},
	}
}

func healthType() *ecs.ComponentType {
	return &ecs.ComponentType{
		Name: "Health",
		Fields: []ecs.Field{
			{Name: "current", Type: ecs.Int32, Default: int32(100)},
			{Name: "max", Type: ecs.Int32, Default: int32(100)},
		},
	}
}

func counterType() *ecs.ComponentType {
	return &ecs.ComponentType{
		Name:   "Counter",
		Fields: []ecs.Field{{Name: "value", Type: ecs.Uint8}},
	}
}

func tagType(name string) *ecs.ComponentType {
	return &ecs.ComponentType{Name: name}
}

func targetType() *ecs.ComponentType {
	return &ecs.ComponentType{
		Name:   "Target",
		Fields: []ecs.Field{{Name: "enemy", Type: ecs.Ref}},
	}
}
