package cluster

import "errors"

var (
    ErrNoSeeds             = errors.New("cluster: empty seed list")
    ErrInvalidSeed         = errors.New("cluster: invalid seed")
    ErrNoDialer            = errors.New("cluster: nil Dialer")
    ErrNoInfoClient        = errors.New("cluster: nil ClusterInfoClient")
    ErrNoReachableEndpoint = errors.New("cluster: no reachable endpoint")
)
