package bidask

import (
	"math"

	log "github.com/sirupsen/logrus"
)

// DustLimit is the minimum economically meaningful volume. Amounts below it
// are suppressed or merged.
const DustLimit uint64 = 2500

// PriceVolume is one discretized step of a liquidity ladder: a price, as the
// ratio of one asset unit to the other, and the volume offered at that price.
type PriceVolume struct {
	Price  float64 `json:"price"`
	Volume uint64  `json:"volume"`
}

// GeneratePriceVolumes builds `divisions` steps starting just past
// centerPrice and extending by priceWidth, distributing availableVolume
// geometrically so steps closer to center carry disproportionately more
// volume when scale > 1. Volumes are normalized to sum to availableVolume
// exactly; a ladder whose normalized steps fall under the dust limit is
// flattened to exactly availableVolume/DustLimit dust-sized steps instead.
func GeneratePriceVolumes(
	availableVolume uint64,
	centerPrice float64,
	divisions int,
	priceWidth float64,
	scale float64,
) []PriceVolume {
	if availableVolume < DustLimit {
		return nil
	}

	divisionsF := float64(divisions)
	ratio := math.Pow(1.0/scale, 1.0/(divisionsF-1.0))
	firstTerm := float64(availableVolume) * scale / (1.0 - math.Pow(ratio, divisionsF))

	priceVolumes := make([]PriceVolume, 0, divisions)
	for i := 0; i < divisions; i++ {
		priceOffset := float64(i + 1)
		price := centerPrice + priceOffset*(priceWidth/divisionsF)
		if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
			log.Warnf(
				"invalid ladder price %f (center %f offset %f width %f divisions %f)",
				price, centerPrice, priceOffset, priceWidth, divisionsF,
			)
			continue
		}
		volume := uint64(firstTerm * math.Pow(ratio, float64(divisions-i)))
		priceVolumes = append(priceVolumes, PriceVolume{Price: price, Volume: volume})
	}

	priceVolumes, flattened := normalizeVolumes(availableVolume, priceVolumes)

	if !flattened {
		// Distribute rounding leftovers one unit at a time onto nonzero
		// steps until the total matches exactly.
		adjustVolumes(availableVolume, priceVolumes)
	}

	out := priceVolumes[:0]
	for _, pv := range priceVolumes {
		if pv.Volume == 0 || pv.Volume > availableVolume {
			log.Warnf("dropping invalid ladder step: price %f volume %d", pv.Price, pv.Volume)
			continue
		}
		out = append(out, pv)
	}
	return out
}

// normalizeVolumes rescales volumes so they sum to availableVolume. If any
// rescaled step falls below the dust limit the whole ladder is replaced by
// availableVolume/DustLimit steps of exactly the dust limit, keeping only
// the original prices.
func normalizeVolumes(availableVolume uint64, priceVolumes []PriceVolume) ([]PriceVolume, bool) {
	var currentTotal uint64
	for _, pv := range priceVolumes {
		currentTotal += pv.Volume
	}
	if currentTotal == 0 {
		return priceVolumes, false
	}

	for i := range priceVolumes {
		share := float64(priceVolumes[i].Volume) / float64(currentTotal)
		priceVolumes[i].Volume = uint64(math.Round(share * float64(availableVolume)))
	}

	dustTrigger := false
	for _, pv := range priceVolumes {
		if pv.Volume < DustLimit {
			dustTrigger = true
			break
		}
	}
	if !dustTrigger {
		return priceVolumes, false
	}

	divs := int(availableVolume / DustLimit)
	flattened := make([]PriceVolume, 0, divs)
	for i, pv := range priceVolumes {
		if i >= divs {
			break
		}
		flattened = append(flattened, PriceVolume{Price: pv.Price, Volume: DustLimit})
	}
	return flattened, true
}

func adjustVolumes(availableVolume uint64, priceVolumes []PriceVolume) {
	var total uint64
	for _, pv := range priceVolumes {
		total += pv.Volume
	}
	adjustment := int64(availableVolume) - int64(total)

	for adjustment != 0 {
		progressed := false
		for i := range priceVolumes {
			if adjustment == 0 {
				break
			}
			if adjustment > 0 && priceVolumes[i].Volume > 0 {
				priceVolumes[i].Volume++
				adjustment--
				progressed = true
			} else if adjustment < 0 && priceVolumes[i].Volume > 1 {
				priceVolumes[i].Volume--
				adjustment++
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
}
