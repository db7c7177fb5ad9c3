package roles

import "errors"

var (
	// ErrNotFound is returned when the role does not exist or is out of scope.
	ErrNotFound = errors.New("rôle non trouvé")
	// ErrDuplicateName is returned when a role name is already taken.
	ErrDuplicateName = errors.New("un rôle porte déjà ce nom")
	// ErrSystemRole guards system roles against rename and deletion.
	ErrSystemRole = errors.New("les rôles système ne peuvent pas être modifiés ainsi")
	// ErrRoleInUse prevents deleting a role that is still assigned.
	ErrRoleInUse = errors.New("rôle encore assigné à des utilisateurs")
)
