package impact

import "time"

// kyleEstimator fits price_change = lambda * signed_volume by ordinary
// least squares over a bounded rolling window of trade observations.
// The fit is cached: recomputing a regression on every quote would put
// the estimator on the decision hot path for no accuracy gain.
type kyleEstimator struct {
	window     int
	minSamples int
	cacheTTL   time.Duration

	obs []kyleObs // rolling, oldest first

	cached   float64
	cachedAt time.Time
}

type kyleObs struct {
	signedVolume float64 // positive for buyer-initiated
	priceChange  float64 // ticks
}

func newKyleEstimator(window, minSamples int, ttl time.Duration) *kyleEstimator {
	return &kyleEstimator{
		window:     window,
		minSamples: minSamples,
		cacheTTL:   ttl,
		obs:        make([]kyleObs, 0, window),
	}
}

func (k *kyleEstimator) observe(signedVolume, priceChange float64) {
	if len(k.obs) == k.window {
		copy(k.obs, k.obs[1:])
		k.obs = k.obs[:len(k.obs)-1]
	}
	k.obs = append(k.obs, kyleObs{signedVolume: signedVolume, priceChange: priceChange})
}

// lambda returns the cached fit, refitting when the cache has aged out.
// Fewer than minSamples observations yields 0: insufficient data is an
// expected steady state early in a symbol's life, not an error.
func (k *kyleEstimator) lambda(now time.Time) float64 {
	if !k.cachedAt.IsZero() && now.Sub(k.cachedAt) < k.cacheTTL {
		return k.cached
	}
	k.cached = k.fit()
	k.cachedAt = now
	return k.cached
}

func (k *kyleEstimator) fit() float64 {
	n := len(k.obs)
	if n < k.minSamples {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for _, o := range k.obs {
		sumX += o.signedVolume
		sumY += o.priceChange
		sumXY += o.signedVolume * o.priceChange
		sumXX += o.signedVolume * o.signedVolume
	}
	denom := float64(n)*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (float64(n)*sumXY - sumX*sumY) / denom
}
